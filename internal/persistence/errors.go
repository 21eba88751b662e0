package persistence

import "errors"

var (
	// ErrCommitFailed indicates the reward transaction could not be applied.
	ErrCommitFailed = errors.New("commit failed")
	// ErrLoadWallet indicates the actor's wallet state could not be read.
	ErrLoadWallet = errors.New("load wallet failed")
)
