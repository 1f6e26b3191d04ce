package models

import "time"

// ProfileModel 系统提示词配置模型
type ProfileModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"uniqueIndex;size:128;not null"`
	HeadText  string `gorm:"type:text"`
	RuleText  string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定表名
func (ProfileModel) TableName() string {
	return "system_prompt_profiles"
}

// ActiveProfileSingletonID is the primary key of the only active_profile row.
const ActiveProfileSingletonID = 1

// ActiveProfileModel 激活指针：单行表，切换激活配置只改这一行
type ActiveProfileModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement:false"`
	ProfileID string `gorm:"size:64;not null"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (ActiveProfileModel) TableName() string {
	return "active_profile"
}
