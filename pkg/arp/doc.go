// Package arp encodes and decodes Ethernet ARP frames.
//
// Frames are built with gopacket layers and are always IPv4 over Ethernet.
// Reply separates the Ethernet source (the host sending the frame) from the
// sender hardware address carried in the ARP payload, which is the mapping
// being claimed. Poisoning and corrective replies only differ in that field.
package arp
