package main

type Settings struct {
	Port        int    `env:"PORT,default=8000"`
	BasePath    string `env:"BASE_PATH,default=/messenger"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`

	JWTSecret string   `env:"JWT_SECRET,required=true"`
	APIKeys   []string `env:"API_KEYS"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`

	MongoDBURI string `env:"MONGODB_URI,default=mongodb://localhost:27017"`

	HandshakeTimeoutSeconds int `env:"HANDSHAKE_TIMEOUT_SECONDS,default=10"`
	IdleTimeoutSeconds      int `env:"IDLE_TIMEOUT_SECONDS,default=120"`
	QueueCapacity           int `env:"QUEUE_CAPACITY,default=256"`
}
