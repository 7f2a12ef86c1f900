package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/helenavibes/ML-service/internal/accounts"
	"github.com/helenavibes/ML-service/internal/ledger"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/registry"
)

// File is the demo data document
type File struct {
	Users  []User  `yaml:"users"`
	Models []Model `yaml:"models"`
}

// User is a seeded account. InitialBalance is credited as a DEPOSIT when the
// user is first created.
type User struct {
	Username       string          `yaml:"username"`
	Email          string          `yaml:"email"`
	Password       string          `yaml:"password"`
	Role           models.UserRole `yaml:"role"`
	InitialBalance string          `yaml:"initial_balance"`
}

// Model is a seeded prediction model
type Model struct {
	Name          string           `yaml:"name"`
	Description   string           `yaml:"description"`
	ModelType     models.ModelType `yaml:"model_type"`
	CostPerRecord string           `yaml:"cost_per_record"`
}

// Result counts what Apply created
type Result struct {
	UsersCreated  int
	ModelsCreated int
}

// Default returns the built-in demo data
func Default() *File {
	return &File{
		Users: []User{
			{Username: "demo_user", Email: "demo@example.com", Password: "demo123", Role: models.RoleUser, InitialBalance: "100"},
			{Username: "admin", Email: "admin@example.com", Password: "admin123", Role: models.RoleAdmin, InitialBalance: "1000"},
		},
		Models: []Model{
			{Name: "Text Classifier", Description: "Classifies text documents", ModelType: models.ModelTypeClassification, CostPerRecord: "0.5"},
			{Name: "Price Forecast", Description: "Regression model for price forecasting", ModelType: models.ModelTypeRegression, CostPerRecord: "1.0"},
			{Name: "Sentiment Analysis", Description: "Detects the sentiment of a text", ModelType: models.ModelTypeClassification, CostPerRecord: "0.3"},
		},
	}
}

// Parse decodes a YAML seed document
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// Load reads the seed file at path, or returns Default when path is empty
func Load(path string) (*File, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Seeder loads demo data. Applying the same file twice changes nothing.
type Seeder struct {
	accounts *accounts.Service
	ledger   *ledger.Ledger
	registry *registry.Registry
	logger   *zap.Logger
}

// NewSeeder creates a seeder
func NewSeeder(a *accounts.Service, l *ledger.Ledger, r *registry.Registry, logger *zap.Logger) *Seeder {
	return &Seeder{accounts: a, ledger: l, registry: r, logger: logger}
}

// Apply creates the missing users and models in f
func (s *Seeder) Apply(ctx context.Context, f *File) (*Result, error) {
	result := &Result{}

	for _, u := range f.Users {
		role := u.Role
		if role == "" {
			role = models.RoleUser
		}
		user, created, err := s.accounts.EnsureUser(ctx, u.Username, u.Email, u.Password, role)
		if err != nil {
			return result, fmt.Errorf("failed to seed user %q: %w", u.Username, err)
		}
		if !created {
			continue
		}
		result.UsersCreated++
		s.logger.Info("Seeded user", zap.String("username", user.Username), zap.String("role", string(user.Role)))

		if u.InitialBalance == "" {
			continue
		}
		amount, err := decimal.NewFromString(u.InitialBalance)
		if err != nil {
			return result, fmt.Errorf("invalid initial balance for %q: %w", u.Username, err)
		}
		if amount.IsZero() {
			continue
		}
		if _, err := s.ledger.Deposit(ctx, user.ID, amount, "initial balance"); err != nil {
			return result, fmt.Errorf("failed to credit initial balance for %q: %w", u.Username, err)
		}
	}

	for _, m := range f.Models {
		if _, err := s.registry.FindByName(ctx, m.Name); err == nil {
			continue
		}
		cost, err := decimal.NewFromString(m.CostPerRecord)
		if err != nil {
			return result, fmt.Errorf("invalid cost for model %q: %w", m.Name, err)
		}
		if _, err := s.registry.Create(ctx, registry.CreateModelRequest{
			Name:          m.Name,
			Description:   m.Description,
			ModelType:     m.ModelType,
			CostPerRecord: cost,
		}); err != nil {
			return result, fmt.Errorf("failed to seed model %q: %w", m.Name, err)
		}
		result.ModelsCreated++
	}

	s.logger.Info("Seed data applied",
		zap.Int("users_created", result.UsersCreated),
		zap.Int("models_created", result.ModelsCreated))
	return result, nil
}
