package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastpubsub/fastpubsub/internal/broker"
	"github.com/fastpubsub/fastpubsub/internal/store"
)

// Client is an authorized API client. The secret hash never leaves this package.
type Client struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Scopes       string    `json:"scopes"`
	IsActive     bool      `json:"is_active"`
	TokenVersion int       `json:"token_version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateClientResult carries the generated secret, shown exactly once.
type CreateClientResult struct {
	ID     uuid.UUID `json:"id"`
	Secret string    `json:"secret"`
}

// Token is the response of the OAuth2 token endpoint.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Principal identifies the authenticated caller of a protected request.
type Principal struct {
	ClientID uuid.UUID
	Scopes   map[string]struct{}
}

// Service manages clients and tokens on top of the shared store.
type Service struct {
	store  *store.Store
	codec  *TokenCodec
	logger *zap.Logger
}

// NewService wires the client/token service.
func NewService(st *store.Store, codec *TokenCodec, logger *zap.Logger) *Service {
	return &Service{store: st, codec: codec, logger: logger}
}

const clientColumns = "id, name, scopes, is_active, token_version, created_at, updated_at"

// CreateClient stores a new client with a freshly generated secret.
func (s *Service) CreateClient(ctx context.Context, name, scopes string, isActive bool) (*CreateClientResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, broker.InvalidArgument("name must not be empty")
	}
	if err := ValidateScopes(scopes); err != nil {
		return nil, broker.InvalidArgument(err.Error())
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	secretHash, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err = s.store.Pool().Exec(ctx,
		`INSERT INTO clients (id, name, scopes, is_active, secret_hash, token_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6, $6)`,
		id, name, scopes, isActive, secretHash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	s.logger.Info("client created",
		zap.String("client_id", id.String()),
		zap.String("client_name", name),
		zap.String("scopes", scopes),
		zap.Bool("is_active", isActive),
	)
	return &CreateClientResult{ID: id, Secret: secret}, nil
}

// GetClient fetches a client by ID.
func (s *Service) GetClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	var c Client
	err := s.store.Pool().QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Scopes, &c.IsActive, &c.TokenVersion, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if store.IsNoRows(err) {
			return nil, broker.NotFound("Client not found")
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}

// ListClients returns a page of clients ordered by ID.
func (s *Service) ListClients(ctx context.Context, offset, limit int) ([]Client, error) {
	rows, err := s.store.Pool().Query(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY id OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := []Client{}
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Scopes, &c.IsActive, &c.TokenVersion, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list clients: scan: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// UpdateClient replaces name, scopes, and active flag. The token version is
// bumped so every outstanding token for this client becomes invalid.
func (s *Service) UpdateClient(ctx context.Context, id uuid.UUID, name, scopes string, isActive bool) (*Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, broker.InvalidArgument("name must not be empty")
	}
	if err := ValidateScopes(scopes); err != nil {
		return nil, broker.InvalidArgument(err.Error())
	}

	var c Client
	err := s.store.Pool().QueryRow(ctx,
		`UPDATE clients
		 SET name = $2,
		     scopes = $3,
		     is_active = $4,
		     token_version = token_version + 1,
		     updated_at = $5
		 WHERE id = $1
		 RETURNING `+clientColumns,
		id, name, scopes, isActive, time.Now().UTC(),
	).Scan(&c.ID, &c.Name, &c.Scopes, &c.IsActive, &c.TokenVersion, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if store.IsNoRows(err) {
			return nil, broker.NotFound("Client not found")
		}
		return nil, fmt.Errorf("update client: %w", err)
	}

	s.logger.Info("client updated, outstanding tokens revoked",
		zap.String("client_id", id.String()),
		zap.Int("token_version", c.TokenVersion),
	)
	return &c, nil
}

// DeleteClient removes a client permanently.
func (s *Service) DeleteClient(ctx context.Context, id uuid.UUID) error {
	tag, err := s.store.Pool().Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return broker.NotFound("Client not found")
	}
	return nil
}

// IssueToken verifies the client credentials and returns a signed bearer token.
func (s *Service) IssueToken(ctx context.Context, clientID uuid.UUID, clientSecret string) (*Token, error) {
	var (
		scopes       string
		isActive     bool
		tokenVersion int
		secretHash   string
	)
	err := s.store.Pool().QueryRow(ctx,
		`SELECT scopes, is_active, token_version, secret_hash FROM clients WHERE id = $1`,
		clientID,
	).Scan(&scopes, &isActive, &tokenVersion, &secretHash)
	if err != nil {
		if store.IsNoRows(err) {
			s.logger.Warn("token issuance failed: client not found", zap.String("client_id", clientID.String()))
			return nil, broker.Unauthenticated("Invalid client credentials")
		}
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if !isActive {
		s.logger.Warn("token issuance failed: client disabled", zap.String("client_id", clientID.String()))
		return nil, broker.Unauthenticated("Invalid client credentials")
	}
	if !VerifySecret(clientSecret, secretHash) {
		s.logger.Warn("token issuance failed: invalid secret", zap.String("client_id", clientID.String()))
		return nil, broker.Unauthenticated("Invalid client credentials")
	}

	accessToken, err := s.codec.Sign(clientID.String(), scopes, tokenVersion, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.codec.Expiry().Seconds()),
		Scope:       scopes,
	}, nil
}

// ValidateToken verifies a bearer token against both its signature and the
// client's live state: the client must still exist, be active, and carry the
// same token_version the token was minted with.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*Principal, error) {
	claims, err := s.codec.Verify(tokenString)
	if err != nil {
		return nil, broker.Unauthenticated("Invalid access token")
	}
	clientID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, broker.Unauthenticated("Invalid access token")
	}

	var (
		isActive     bool
		tokenVersion int
	)
	err = s.store.Pool().QueryRow(ctx,
		`SELECT is_active, token_version FROM clients WHERE id = $1`,
		clientID,
	).Scan(&isActive, &tokenVersion)
	if err != nil {
		if store.IsNoRows(err) {
			return nil, broker.Unauthenticated("Invalid access token")
		}
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if !isActive {
		return nil, broker.Unauthenticated("Client disabled")
	}
	if tokenVersion != claims.Ver {
		return nil, broker.Unauthenticated("Token revoked")
	}

	return &Principal{
		ClientID: clientID,
		Scopes:   ParseScopes(claims.Scope),
	}, nil
}
