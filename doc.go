// Package vmwatch monitors virtual machines through a secure telemetry and
// command channel.
//
// An agent runs on every monitored machine. It samples the host on a fixed
// interval and pushes each sample to the server as an audit. The payload of
// an audit is sealed with ChaCha20-Poly1305 and bound to the agent id.
// Collected categories:
//   - vm_cpu: per-core and total processor utilisation
//   - vm_memory: virtual memory and swap usage
//   - vm_filesystem: usage of every mounted partition
//   - vm_users: logged-in users, checked against the agent allow-list
//   - docker_container_resource: CPU and memory of running containers
//
// The server authenticates agents by API key and administrators by bearer
// token. Every audit is stored with its ciphertext, decrypted once and
// analysed against the LOW, MEDIUM and CRITICAL thresholds. Alerts are
// persisted and fanned out to mail, an alert file and a webhook.
//
// Administrators may run aliased commands on an agent. The command travels
// sealed in the opposite direction and the agent only executes programs from
// its alias table, never through a shell.
//
// Storage is PostgreSQL with schema migrations, or memory when no DSN is
// configured. Both binaries read flags, environment variables and an
// optional YAML file.
package vmwatch
