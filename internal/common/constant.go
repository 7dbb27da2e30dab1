package common

// SessionSecretSize is the number of random bytes in a session secret.
const SessionSecretSize = 32

// RegistrationTokenSize is the number of random bytes in a registration token.
const RegistrationTokenSize = 32
