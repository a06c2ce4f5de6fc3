package broker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	valid := []string{"orders", "orders-v2", "orders.v2", "orders_v2", "A1", strings.Repeat("a", 128)}
	for _, id := range valid {
		if err := ValidateID("topic_id", id); err != nil {
			t.Errorf("ValidateID(%q): unexpected error %v", id, err)
		}
	}

	invalid := []string{"", "orders v2", "orders/v2", "ordérs", strings.Repeat("a", 129), "a\nb"}
	for _, id := range invalid {
		err := ValidateID("topic_id", id)
		if err == nil {
			t.Errorf("ValidateID(%q): expected error", id)
			continue
		}
		if KindOf(err) != KindInvalidArgument {
			t.Errorf("ValidateID(%q): kind got %s, want %s", id, KindOf(err), KindInvalidArgument)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(NotFound("x")); got != KindNotFound {
		t.Errorf("KindOf(NotFound): got %s", got)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("KindOf(plain error): got %s, want %s", got, KindInternal)
	}
	wrapped := fmt.Errorf("create topic: %w", AlreadyExists("dup"))
	if got := KindOf(wrapped); got != KindAlreadyExists {
		t.Errorf("KindOf(wrapped): got %s, want %s", got, KindAlreadyExists)
	}
}
