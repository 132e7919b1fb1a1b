package common

import "time"

// DefaultSessionTTL is the fixed lifetime of an upload session.
const DefaultSessionTTL = 24 * time.Hour

// DefaultRoleCacheTTL bounds how long a resolved role backend is reused.
const DefaultRoleCacheTTL = time.Hour

// BearerPrefix is the Authorization header scheme used for job callbacks
// and for OAuth-protected backend requests.
const BearerPrefix = "Bearer "
