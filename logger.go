package main

import "go.uber.org/zap"

// logger is the process-wide logger. main replaces it with a production
// logger; tests leave the nop in place or set it explicitly.
var logger = zap.NewNop()
