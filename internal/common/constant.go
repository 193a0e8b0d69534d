package common

// AuthorizationHeaderName carries the bearer token on outbound HTTP requests.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the access token in AuthorizationHeaderName.
const BearerPrefix = "Bearer "
