// Package profile resolves named client profiles and their on-disk layout.
// Each profile has its own daemon, socket, local state and logs.
package profile
