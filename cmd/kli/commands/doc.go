// Package commands implements the kli command tree: local key management
// plus calls against a keld daemon.
package commands
