/*
Package log provides structured logging for Hangar using zerolog.

A single global Logger is configured once through Init and every component derives
a child logger from it:

	logger := log.WithComponent("reconciler")
	log.WithNode(logger, "pve1").Warn().Err(err).Msg("Skipping node")
	log.WithResource(logger, "pve1", 100).Info().Msg("Control action issued")
	log.WithSecretKey(logger, "hetzner_api_key").Info().Msg("Secret stored")

Levels are parsed with ParseLevel, which rejects anything but debug, info, warn
and error so a typo in configuration fails at startup. Output goes to stderr.

JSON output is meant for production, console output for interactive use. Secrets
and session tickets are never logged; only node names, keys and error kinds are.
*/
package log
