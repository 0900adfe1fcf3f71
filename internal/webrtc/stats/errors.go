package stats

import "errors"

var ErrNoSource = errors.New("stats: no source")
