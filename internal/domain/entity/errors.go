package entity

import "errors"

var (
	// Message errors
	ErrInvalidMessageID      = errors.New("invalid message id")
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrInvalidRole           = errors.New("invalid message role")
	ErrEmptyContent          = errors.New("message content is empty")

	// Conversation errors
	ErrInvalidUserID = errors.New("invalid user id")

	// Profile errors
	ErrInvalidProfileID   = errors.New("invalid profile id")
	ErrInvalidProfileName = errors.New("invalid profile name")
	ErrNoActiveProfile    = errors.New("no active system prompt profile")

	// Form errors
	ErrInvalidResponseID = errors.New("invalid form response id")

	// Task errors
	ErrInvalidTaskID        = errors.New("invalid task id")
	ErrInvalidTransition    = errors.New("invalid task transition")
	ErrTaskNotActive        = errors.New("task is no longer active")
	ErrConcurrencyViolation = errors.New("conversation already has an active generation task")
)
