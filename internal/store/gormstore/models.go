package gormstore

// UserPoint mirrors the user_points table.
type UserPoint struct {
	UserID           int64 `gorm:"primaryKey;autoIncrement:false"`
	Point            int64 `gorm:"not null;check:chk_user_points_point,point >= 0"`
	UpdatedUnixMilli int64 `gorm:"not null"`
}

func (UserPoint) TableName() string { return "user_points" }

// PointHistory mirrors the point_histories table.
type PointHistory struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	UserID           int64  `gorm:"not null;index:idx_point_histories_user_id"`
	Amount           int64  `gorm:"not null"`
	Type             string `gorm:"size:16;not null"`
	Status           string `gorm:"size:16;not null"`
	CreatedUnixMilli int64  `gorm:"not null"`
}

func (PointHistory) TableName() string { return "point_histories" }

// Models lists every model managed by AutoMigrate.
func Models() []any {
	return []any{&UserPoint{}, &PointHistory{}}
}
