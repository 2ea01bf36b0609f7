package logger

// Logger is the component-tagged logging surface used across the pipeline.
type Logger interface {
	Debug(component, message string, fields map[string]interface{})
	Info(component, message string, fields map[string]interface{})
	Warning(component, message string, fields map[string]interface{})
	Error(component string, err error, fields map[string]interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, string, map[string]interface{})   {}
func (NopLogger) Info(string, string, map[string]interface{})    {}
func (NopLogger) Warning(string, string, map[string]interface{}) {}
func (NopLogger) Error(string, error, map[string]interface{})    {}
