// Package logx is pawrelay's structured logging layer over zerolog.
//
// Components take a Logger by value and derive scoped loggers with With. The
// Service behind them can change level and sinks on config reload without the
// components noticing.
package logx
