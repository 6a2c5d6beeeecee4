// File: utils/constants.go
package utils

import "time"

// PresenceKeyPrefix marks a user as connected to the realtime channel.
const PresenceKeyPrefix = "presence:"

// PresenceTTL is how long a presence heartbeat stays valid.
const PresenceTTL = 90 * time.Second

// UserChannelPrefix is the Redis pub/sub channel prefix for per-user events.
const UserChannelPrefix = "user:"

// DeviceTokenPrefix is the Redis key prefix for a user's FCM registration token.
const DeviceTokenPrefix = "fcm_token:"

// PrincipalKey is the gin context key holding the authenticated Principal.
const PrincipalKey = "principal"
