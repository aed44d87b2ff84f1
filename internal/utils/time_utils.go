package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrEmptyDuration = errors.New("empty duration string")

// ParseStringTime 解析 "250ms" "10s" "5m" "24h" 以及按天计的 "2d"
func ParseStringTime(timeString string) (time.Duration, error) {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0, ErrEmptyDuration
	}
	if duration, err := time.ParseDuration(timeString); err == nil {
		return duration, nil
	}
	if cutString, found := strings.CutSuffix(timeString, "d"); found {
		number, err := strconv.Atoi(cutString)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q: %w", cutString, err)
		}
		return time.Duration(number) * time.Hour * 24, nil
	}
	return 0, fmt.Errorf("invalid time format: %s", timeString)
}

// DurationOr 解析失败或结果非正时返回 fallback
func DurationOr(timeString string, fallback time.Duration) time.Duration {
	duration, err := ParseStringTime(timeString)
	if err != nil || duration <= 0 {
		return fallback
	}
	return duration
}
