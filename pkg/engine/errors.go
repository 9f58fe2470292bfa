package engine

import "errors"

var (
	// ErrEngineClosed is returned when operations are performed on a closed engine
	ErrEngineClosed = errors.New("engine is closed")
	// ErrSchemaMismatch is returned when input columns do not match the configured record
	ErrSchemaMismatch = errors.New("input does not match record schema")
	// ErrNoData is returned when no data file exists to operate on
	ErrNoData = errors.New("no data files")
)
