package logging

// LoggerForComponent returns a named logger for one controller component
// (store, manager, handler, chain...)
func LoggerForComponent(name string) *Logger {
	return L().WithName(name).WithValues("component", name)
}

func LoggerForNetwork(base *Logger, networkID string, segment uint32) *Logger {
	return base.WithValues("network", networkID, "segment", segment)
}

func LoggerForPort(base *Logger, portID, networkID string) *Logger {
	return base.WithValues("port", portID, "network", networkID)
}

// LoggerForInstance tags entries with where an instance is attached
func LoggerForInstance(base *Logger, mac, device string, port uint32) *Logger {
	return base.WithValues("mac", mac, "device", device, "portNumber", port)
}

func LoggerForNode(base *Logger, hostname, device string) *Logger {
	return base.WithValues("node", hostname, "device", device)
}
