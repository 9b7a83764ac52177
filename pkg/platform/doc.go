// Package platform wraps the OS facilities needed to observe and steer a LAN
// segment: interface and route discovery, the neighbor cache, raw frame
// injection and capture, and per-host traffic shaping.
//
// Backends are picked at build time:
//   - linux: netlink for routes, neighbors and tc HTB shaping
//   - darwin: routing socket for routes, arp(8) for neighbors, dnctl and pf for shaping
//   - windows: route(1) and arp(1); shaping reports Unsupported
//
// Frame I/O goes through libpcap (npcap on Windows). A Link is shared by every
// caller on the same interface and fans captured frames out to subscribers.
package platform
