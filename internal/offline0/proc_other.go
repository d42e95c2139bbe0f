//go:build !linux

package offline0

func memorySummary() string { return "" }
