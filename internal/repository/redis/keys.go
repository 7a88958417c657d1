package redisrepo

import "fmt"

const ns = "tixcheckin:v1"

func KeyWindow(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:window", ns, eventID)
}

func KeyMetrics(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:metrics", ns, eventID)
}

func KeyCheckedIn(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:checked_in", ns, eventID)
}

func KeyGateLock(key string) string {
	return fmt.Sprintf("%s:gate:lock:%s", ns, key)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemCheckIn(eventID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:checkin:%d:%s", ns, eventID, idemKey)
}

func ChannelCheckInChanged() string {
	return ns + ":checkin:changed"
}
