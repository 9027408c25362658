package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/listening-room-system/pkg/models"
)

type DB struct {
	*gorm.DB
}

func NewMySQLDB(host, port, user, password, dbname string) (*DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &DB{DB: db}, nil
}

// New wraps an already-open gorm connection. Used by tests that run
// against an in-memory database instead of MySQL.
func New(db *gorm.DB) *DB {
	return &DB{DB: db}
}

// Migrate creates or updates the schema for every model.
func Migrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	return db.AutoMigrate(
		&models.User{},
		&models.Track{},
		&models.Room{},
		&models.RoomMember{},
		&models.RoomMessage{},
		&models.RoomPlaylistEntry{},
		&models.ListenRecord{},
		&models.RoomParticipationRecord{},
	)
}

// User operations
func (db *DB) CreateUser(user *models.User) error {
	return db.Create(user).Error
}

func (db *DB) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DB) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	if err := db.First(&user, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Track operations
func (db *DB) CreateTrack(track *models.Track) error {
	return db.Create(track).Error
}

func (db *DB) GetTrackByID(id uint) (*models.Track, error) {
	var track models.Track
	if err := db.First(&track, id).Error; err != nil {
		return nil, err
	}
	return &track, nil
}

func (db *DB) GetTracksByUser(userID uint) ([]*models.Track, error) {
	var tracks []*models.Track
	if err := db.Where("user_id = ?", userID).
		Order("uploaded_at DESC").
		Find(&tracks).Error; err != nil {
		return nil, err
	}
	return tracks, nil
}

func (db *DB) GetTracksByStatus(status, order string) ([]*models.Track, error) {
	var tracks []*models.Track
	if err := db.Where("status = ?", status).
		Order("uploaded_at " + order).
		Find(&tracks).Error; err != nil {
		return nil, err
	}
	return tracks, nil
}

// Room operations
func (db *DB) CreateRoom(room *models.Room) error {
	return db.Create(room).Error
}

func (db *DB) GetRoomByCode(code string) (*models.Room, error) {
	var room models.Room
	if err := db.First(&room, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (db *DB) CountRoomsByOwner(ownerID uint) (int64, error) {
	var count int64
	if err := db.Model(&models.Room{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (db *DB) RoomCodeExists(code string) (bool, error) {
	var count int64
	if err := db.Model(&models.Room{}).
		Where("code = ?", code).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
