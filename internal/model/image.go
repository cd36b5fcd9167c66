package model

type Image struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ObjectKey   string `gorm:"uniqueIndex;not null"`
	ContentType string
	Size        int64
	// Only filled when images are kept inline in the database
	Data      []byte
	CreatedAt int64 `gorm:"autoCreateTime:milli"`
}
