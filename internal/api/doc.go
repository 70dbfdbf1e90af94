// Package api exposes the REST surface for endpoint management, capability
// inspection and operation lifecycle control. Infrastructure failures map to
// HTTP error statuses, connector level failures are reported inside the
// normalized operation state with a 200 response.
package api
