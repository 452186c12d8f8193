// Package command defines the yamf wire vocabulary: the fixed header names
// and command strings that travel over HTTP between services, the registry,
// and the gateway.
package command

// Header names are part of the wire contract; never compare against a
// string literal outside this package.
const (
	HeaderCommand         = "yamf-command"
	HeaderServiceName     = "yamf-service-name"
	HeaderServiceLocation = "yamf-service-location"
	HeaderServiceHome     = "yamf-service-home"
	HeaderRoutePath       = "yamf-route-path"
	HeaderRouteDatatype   = "yamf-route-datatype"
	HeaderRouteType       = "yamf-route-type"
	HeaderPubsubChannel   = "yamf-pubsub-channel"
	HeaderAuthToken       = "yamf-auth-token"
	HeaderRegistryToken   = "yamf-registry-token"
)

// Command is a closed enum of the operations the registry/gateway dispatch
// on. The string values are the wire representation carried in HeaderCommand,
// lower-kebab-case, matching spec.md's scenario fixtures (e.g. "service-call").
type Command string

// The 13 named commands plus Unknown.
const (
	Health             Command = "health"
	RegistryPull       Command = "registry-pull"
	ServiceSetup       Command = "service-setup"
	ServiceRegister    Command = "service-register"
	ServiceUnregister  Command = "service-unregister"
	ServiceLookup      Command = "service-lookup"
	ServiceCall        Command = "service-call"
	RouteRegister      Command = "route-register"
	PubsubPublish      Command = "pubsub-publish"
	PubsubSubscribe    Command = "pubsub-subscribe"
	PubsubUnsubscribe  Command = "pubsub-unsubscribe"
	AuthLogin          Command = "auth-login"
	AuthRefresh        Command = "auth-refresh"
	Unknown            Command = ""
)

// protected is the set of commands that require HeaderRegistryToken when a
// registry token is configured (spec.md §4.b).
var protected = map[Command]bool{
	ServiceSetup:      true,
	ServiceRegister:   true,
	ServiceUnregister: true,
	RouteRegister:     true,
	PubsubPublish:     true,
	PubsubSubscribe:   true,
	PubsubUnsubscribe: true,
	RegistryPull:      true,
}

// all is the recognized command set; anything else parses to Unknown.
var all = map[Command]bool{
	Health:            true,
	RegistryPull:      true,
	ServiceSetup:      true,
	ServiceRegister:   true,
	ServiceUnregister: true,
	ServiceLookup:     true,
	ServiceCall:       true,
	RouteRegister:     true,
	PubsubPublish:     true,
	PubsubSubscribe:   true,
	PubsubUnsubscribe: true,
	AuthLogin:         true,
	AuthRefresh:       true,
}

// Parse is the single place command header strings are compared against the
// vocabulary (spec.md §9). An empty or unrecognized header yields Unknown.
func Parse(header string) Command {
	c := Command(header)
	if all[c] {
		return c
	}
	return Unknown
}

// IsProtected reports whether c requires a registry token when one is
// configured.
func IsProtected(c Command) bool {
	return protected[c]
}

// String implements fmt.Stringer.
func (c Command) String() string {
	if c == Unknown {
		return "unknown"
	}
	return string(c)
}
