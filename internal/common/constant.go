package common

// AccessTokenHeaderName is the gRPC metadata key carrying the access token.
const AccessTokenHeaderName = "access_token"

// UserAgentHeaderName is the metadata key used to describe the calling client.
const UserAgentHeaderName = "user-agent"

// SystemActor is recorded as the user id of events not caused by a user.
const SystemActor = "system"

// AnonymousActor is recorded when the acting user could not be identified.
const AnonymousActor = "anonymous"
