package moira

// Version is the release version reported by the health endpoint.
const Version = "0.4.0"
