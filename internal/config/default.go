package config

// defaultConfig serves ./www on port 8080 when no file is given.
const defaultConfig = `
server {
    listen 8080;
    root ./www;
    client_max_body_size 10m;

    location / {
        methods GET POST DELETE;
        index index.html;
        autoindex on;
        upload_store ./www/uploads;
    }

    location /cgi-bin {
        methods GET POST;
        cgi_handler .cgi "";
        cgi_handler .py /usr/bin/python3;
        cgi_handler .sh /bin/sh;
        cgi_handler .php /usr/bin/php;
    }
}
`

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Parse("<builtin>", defaultConfig)
	if err != nil {
		panic("builtin default config does not parse: " + err.Error())
	}
	return cfg
}
