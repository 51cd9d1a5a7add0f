// Package config loads and validates resubd configuration.
//
// Configuration lives in a single YAML or JSON file (format detected by
// extension), with subscription descriptors either inline or pulled in from
// additional files via glob patterns:
//
//	listen: ":4290"
//	path: /graphql
//	upstream: ws://localhost:4000/graphql
//	log:
//	  level: info
//	  format: text
//	metrics:
//	  enabled: true
//	  listen: ":9090"
//	reconnect:
//	  initialDelay: 500ms
//	  maxDelay: 30s
//	  maxAttempts: 0
//	subscriptions:
//	  - name: onItems
//	    key: offset
//	    args:
//	      filter: important
//	subscriptionFiles:
//	  - subscriptions/**/*.yaml
//
// Load applies defaults, resolves descriptor files relative to the config
// file's directory, and validates the result.
package config
