package models

import "github.com/pkg/errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderNotTrackable = errors.New("order is not in a trackable status")
	ErrNotAssigned       = errors.New("order is not assigned to this agent")
)
