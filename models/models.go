package models

const ContentTypeDnsMessage string = "application/dns-message"
const ContentTypeDnsJson string = "application/dns-json"

// Largest message that can be carried over any DNS transport
const MaxMessageSize int = 65535
