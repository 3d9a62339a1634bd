package main

import "errors"

var (
	ErrConfigDir      = errors.New("resolve config dir")
	ErrLoadConfig     = errors.New("load config")
	ErrInvalidLogging = errors.New("invalid logging configuration")
	ErrOpenStorage    = errors.New("open mapping storage")
	ErrStartProxy     = errors.New("start proxy")
	ErrStartAPI       = errors.New("start control plane")
	ErrInvalidID      = errors.New("invalid mapping id")
	ErrReadContent    = errors.New("read content")
)
