package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the session
// token on inbound requests.
const AccessTokenHeaderName = "access_token"

// BootstrapActor is the actor identity used while seeding the root account.
// It is allowed to change permissions without holding ManagePermissions.
const BootstrapActor = "RosePanel"
