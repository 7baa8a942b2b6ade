package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"PredictionMarket/internal/domain/models"
	"PredictionMarket/internal/storage/postgres"
	"PredictionMarket/internal/storage/redis"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidCode        = errors.New("invalid verification code")
)

const verificationTTL = 15 * time.Minute

type UserService struct {
	log     *slog.Logger
	manager Manager
	codes   CodeStore
}

type Manager interface {
	CreateUser(ctx context.Context, email string, passHash []byte, createdAt time.Time) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserById(ctx context.Context, id int64) (models.User, error)
	MarkUserVerified(ctx context.Context, id int64) error
	GetWallet(ctx context.Context, userId int64) (models.Wallet, error)
	GetBalance(ctx context.Context, userId int64) (decimal.Decimal, error)
}

// CodeStore keeps short-lived verification codes, keyed by user id.
type CodeStore interface {
	SaveVerificationCode(ctx context.Context, userId int64, code string, ttl time.Duration) error
	GetVerificationCode(ctx context.Context, userId int64) (string, error)
	DeleteVerificationCode(ctx context.Context, userId int64) error
}

func New(log *slog.Logger, manager Manager, codes CodeStore) *UserService {
	return &UserService{
		log:     log,
		manager: manager,
		codes:   codes,
	}
}

func (us *UserService) RegisterNewUser(ctx context.Context, email string, password string) (int64, error) {
	const op = "user.RegisterNewUser"

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		us.log.Error("failed to generate password hash", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := us.manager.CreateUser(ctx, email, passHash, time.Now())
	if err != nil {
		if errors.Is(err, postgres.ErrUserAlreadyExists) {
			us.log.Error("failed to register already existing user", "email", email)
			return 0, ErrUserAlreadyExists
		}
		us.log.Error("failed to register user", "email", email, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (us *UserService) Login(ctx context.Context, email, password string) (int64, string, error) {
	const op = "user.Login"

	user, err := us.manager.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotExists) {
			return 0, "", ErrInvalidCredentials
		}
		us.log.Error("failed to get user by email", "email", email, "err", err)
		return 0, "", fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PassHash), []byte(password)); err != nil {
		us.log.Info("invalid credentials", "email", email)
		return 0, "", ErrInvalidCredentials
	}

	return user.Id, user.Email, nil
}

// RequestVerification issues a fresh 6-digit code with a TTL and returns
// it. Delivery (email) is the caller's concern.
func (us *UserService) RequestVerification(ctx context.Context, userId int64) (string, error) {
	const op = "user.RequestVerification"

	if _, err := us.manager.GetUserById(ctx, userId); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	code, err := generateCode()
	if err != nil {
		us.log.Error("failed to generate verification code", "err", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := us.codes.SaveVerificationCode(ctx, userId, code, verificationTTL); err != nil {
		us.log.Error("failed to save verification code", "user_id", userId, "err", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return code, nil
}

// ConfirmVerification checks the submitted code and marks the user verified.
func (us *UserService) ConfirmVerification(ctx context.Context, userId int64, code string) error {
	const op = "user.ConfirmVerification"

	stored, err := us.codes.GetVerificationCode(ctx, userId)
	if err != nil {
		if errors.Is(err, redis.ErrCodeNotFound) {
			return ErrInvalidCode
		}
		us.log.Error("failed to get verification code", "user_id", userId, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if stored != code {
		return ErrInvalidCode
	}

	if err := us.manager.MarkUserVerified(ctx, userId); err != nil {
		us.log.Error("failed to mark user verified", "user_id", userId, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	_ = us.codes.DeleteVerificationCode(ctx, userId)
	return nil
}

func (us *UserService) GetWallet(ctx context.Context, userId int64) (models.Wallet, error) {
	const op = "user.GetWallet"

	wallet, err := us.manager.GetWallet(ctx, userId)
	if err != nil {
		us.log.Error("failed to get wallet", "user_id", userId, "err", err)
		return models.Wallet{}, fmt.Errorf("%s: %w", op, err)
	}

	return wallet, nil
}

func (us *UserService) GetBalance(ctx context.Context, userId int64) (decimal.Decimal, error) {
	const op = "user.GetBalance"

	balance, err := us.manager.GetBalance(ctx, userId)
	if err != nil {
		us.log.Error("failed to get balance", "user_id", userId, "err", err)
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	return balance, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
