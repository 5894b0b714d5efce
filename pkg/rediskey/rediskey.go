package rediskey

import "fmt"

// Cache key conventions (global across services)
const (
	AppPrefix         = "stakearn"
	LeaderboardPrefix = "stakearn:leaderboard"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLeaderboardKey returns "stakearn:leaderboard:{sortField}:{limit}"
func BuildLeaderboardKey(sortField string, limit int) string {
	return fmt.Sprintf("%s:%s:%d", LeaderboardPrefix, sortField, limit)
}
