package changes

const Version = "0.1.0"
