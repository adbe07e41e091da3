package tiengine

// Version is the engine build identifier, reported in the startup banner
// and the /status response.
const Version = "1.2.0"
