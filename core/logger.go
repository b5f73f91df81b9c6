package core

// Logger reports messages to the error tracker and the process output.
// args may hold an error, a map[string]interface{} of extras and the principal performing the request.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
