// Package api exposes the REST surface the chat UI renders from: messages,
// confirm and reject, the action task list, the activity feed and the active
// network connection.
package api
