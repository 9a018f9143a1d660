// Package httpapi exposes the messaging service over HTTP.
//
// # Overview
//
// The httpapi package maps the thread registry, message service and
// read-state tracker onto JSON routes. All routes under /api except user
// provisioning require a bearer token; the authenticated user is the
// actor for every domain operation.
//
// # Endpoints
//
// Users:
//
//   - POST /api/users - Provision a user (unauthenticated)
//   - GET /api/users/:username - Resolve a username to a user
//
// Threads:
//
//   - GET /api/threads - List the caller's threads
//   - POST /api/threads - Find or create the thread with another user
//     (201 when created, 200 when it already existed)
//   - GET /api/threads/:id - Get a thread
//   - PATCH /api/threads/:id - Update a thread
//   - DELETE /api/threads/:id - Destroy a thread and its messages
//
// Messages:
//
//   - GET /api/threads/:id/messages - List messages in creation order
//   - POST /api/threads/:id/messages - Send a message
//   - GET /api/threads/:id/messages/:mid - Get a message
//   - PATCH /api/threads/:id/messages/:mid - Edit text (sender only)
//   - DELETE /api/threads/:id/messages/:mid - Delete (sender only)
//
// Read state:
//
//   - POST /api/threads/:id/messages/:mid/read - Mark a message read
//   - GET /api/threads/:id/messages/unread_count - Count unread messages
//     addressed to the caller
//
// # Error mapping
//
// Domain errors map to statuses: forbidden access to 403, missing
// entities and unknown participants to 404, validation failures to 400,
// duplicate usernames to 409 and transient store failures to 503. Bodies
// are always {"error": "..."}.
package httpapi
