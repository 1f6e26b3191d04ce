package models

import "time"

// FormSubmissionModel 表单提交模型，答案以 JSON 存储
type FormSubmissionModel struct {
	ResponseID  string    `gorm:"primaryKey;size:128"`
	UserID      string    `gorm:"index;size:128;not null"`
	Answers     string    `gorm:"type:text;not null"`
	SubmittedAt time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// TableName 指定表名
func (FormSubmissionModel) TableName() string {
	return "form_submissions"
}
