// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport provides non-blocking TCP sockets for the reactor:
// listeners, outbound connects, and the socket option value object applied
// once before a socket is handed to a loop.
package transport
