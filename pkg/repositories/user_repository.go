package repositories

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outage-tracker/pkg/types"
)

// UserRepository defines the interface for user lookup and upsert operations.
type UserRepository interface {
	GetByEmail(email string) (*types.User, error)
	GetByChatID(chatID string) (*types.User, error)
	UpsertUser(user *types.User) error
	ListUsers() ([]types.User, error)
}

// gormUserRepository is a GORM implementation of UserRepository.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGORMUserRepository creates a new GORM-based UserRepository.
func NewGORMUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// GetByEmail retrieves the user with the given email address.
// Returns gorm.ErrRecordNotFound if no user is bound to the address.
func (r *gormUserRepository) GetByEmail(email string) (*types.User, error) {
	var user types.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByChatID retrieves the user bound to the given chat user ID.
// Returns gorm.ErrRecordNotFound if no user carries the ID.
func (r *gormUserRepository) GetByChatID(chatID string) (*types.User, error) {
	var user types.User
	if err := r.db.Where("chat_id = ?", chatID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertUser inserts the user, or refreshes the chat binding fields when a
// row with the same email already exists.
func (r *gormUserRepository) UpsertUser(user *types.User) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"chat_id", "display_name", "timezone", "updated_at"}),
	}).Create(user).Error
}

// ListUsers retrieves all users ordered by email.
func (r *gormUserRepository) ListUsers() ([]types.User, error) {
	var users []types.User
	err := r.db.Order("email ASC").Find(&users).Error
	return users, err
}
