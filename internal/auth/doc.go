// Package auth issues and checks the bearer tokens of the control surface.
//
// Tokens are HS256 JWTs carrying a subject and one of three roles:
//
//	viewer    read composer state, entity state and the tick stream
//	operator  viewer plus commands, direct writes and pause/resume/setTime
//	admin     operator plus composition changes and the lifecycle
//
// The role-permission mapping is static; validating a token needs no
// storage.
package auth
