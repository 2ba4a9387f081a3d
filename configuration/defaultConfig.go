package configuration

// defaultConfig loaded anyway when client starts
// may be extended/replaced by user-provided config later
var defaultConfig = []byte(`
version: v0.0.1
log:
  console:
    level: info # available levels: debug, info, warn, error, dpanic, panic, fatal
broker:
  trackers: "localhost:15555"
  poolSize: 32
  voteFactor: 0.5
  trackerWait: 3000
  heartbeat: 30000
consumer:
  window: 1
  connections: 1
  runInPool: false
  poolSize: 64
  timeout: 0
health:
  enabled: false
  addr: ":8080"
metrics:
  report: 0
`)
