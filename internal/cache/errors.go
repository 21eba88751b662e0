package cache

import "errors"

// ErrUnknownTable rejects notifications and reload requests naming a table
// outside the allow-list.
var ErrUnknownTable = errors.New("table not in allow-list")
