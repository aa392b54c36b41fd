package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/quotewise/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials is returned on login with a bad email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// TrialCredits is granted once at signup, recorded as a trial ledger entry.
const TrialCredits = 3

type Service interface {
	Register(ctx context.Context, email, password, displayName string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// TxBeginner abstracts transaction creation.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserRepo is the user persistence the auth service needs.
type UserRepo interface {
	Create(ctx context.Context, tx pgx.Tx, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// WalletProvisioner opens the user's wallet and applies the trial grant.
type WalletProvisioner interface {
	Create(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (*models.Wallet, error)
}

// GrantLedger records the trial grant.
type GrantLedger interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

type service struct {
	pool    TxBeginner
	users   UserRepo
	wallets WalletProvisioner
	ledger  GrantLedger
	secret  []byte
}

func NewService(pool TxBeginner, users UserRepo, wallets WalletProvisioner, ledger GrantLedger, secret string) *service {
	if secret == "" {
		secret = "supersecretdev"
	}
	return &service{pool: pool, users: users, wallets: wallets, ledger: ledger, secret: []byte(secret)}
}

var _ Service = (*service)(nil)

// Register creates the user on the free plan and opens their wallet with the
// trial grant, all in one transaction so a half-provisioned user can't exist.
func (s *service) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		PlanType:     models.PlanFree,
		IsActive:     true,
		DailyLimit:   models.DailyLimitForPlan(models.PlanFree),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.users.Create(ctx, tx, user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if err := s.wallets.Create(ctx, tx, user.ID); err != nil {
		return nil, err
	}
	if _, err := s.wallets.Credit(ctx, tx, user.ID, TrialCredits); err != nil {
		return nil, err
	}
	if err := s.ledger.CreateTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		UserID:      user.ID,
		Amount:      TrialCredits,
		EntryType:   models.LedgerEntryTrial,
		ReferenceID: "trial:" + user.ID.String(),
		Description: "signup trial grant",
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(user.ID)
}

func (s *service) issueToken(userID uuid.UUID) (string, error) {
	c := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	return uuid.Parse(c.Subject)
}
