package parse

import "testing"

func TestCIDRToNetmask(t *testing.T) {
	cases := map[int]string{
		0:  "0.0.0.0",
		8:  "255.0.0.0",
		24: "255.255.255.0",
		32: "255.255.255.255",
	}
	for prefix, want := range cases {
		if got := CIDRToNetmask(prefix); got != want {
			t.Errorf("CIDRToNetmask(%d) = %q, want %q", prefix, got, want)
		}
	}
}

func TestDMIDecodeSystem(t *testing.T) {
	raw := `Handle 0x0001, DMI type 1, 27 bytes
System Information
	Manufacturer: Supermicro
	Product Name: SYS-1029P
	Serial Number: S123456
	UUID: 12345678-1234-1234-1234-123456789012
`
	info, warnings := DMIDecodeSystem(raw)
	if info.Manufacturer != "Supermicro" || info.SerialNumber != "S123456" {
		t.Fatalf("unexpected parse: %+v warnings=%v", info, warnings)
	}
}

func TestDMIDecodeSystemEmptyOnGarbage(t *testing.T) {
	info, warnings := DMIDecodeSystem("not dmidecode output at all\njust noise")
	if info.Manufacturer != "" {
		t.Fatalf("expected empty manufacturer, got %q", info.Manufacturer)
	}
	if len(warnings) == 0 {
		t.Fatalf("expected warnings for unparseable input")
	}
}

func TestIPMILanZeroAddressIsNil(t *testing.T) {
	raw := `IP Address Source   : Static
IP Address          : 0.0.0.0
MAC Address         : 00:11:22:33:44:55
Subnet Mask         : 255.255.255.0
Default Gateway IP  : 10.0.0.1
802.1q VLAN ID      : Disabled
`
	info, _ := IPMILan(raw, 1)
	if info.IPAddress != nil {
		t.Fatalf("expected nil IP for 0.0.0.0, got %v", *info.IPAddress)
	}
	if info.Enabled {
		t.Fatalf("expected enabled=false when ip is nil")
	}
	if info.Gateway == nil || *info.Gateway != "10.0.0.1" {
		t.Fatalf("unexpected gateway: %+v", info.Gateway)
	}
}

func TestIPMILanEnabledWhenIPPresent(t *testing.T) {
	raw := `IP Address          : 10.0.0.50
MAC Address         : 00:11:22:33:44:55
`
	info, _ := IPMILan(raw, 1)
	if !info.Enabled {
		t.Fatalf("expected enabled=true")
	}
	if info.IPAddress == nil || *info.IPAddress != "10.0.0.50" {
		t.Fatalf("unexpected ip: %+v", info.IPAddress)
	}
}

func TestNetworkInterfacesIPAddrFormat(t *testing.T) {
	raw := `1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536 qdisc noqueue state UNKNOWN group default qlen 1000
    link/loopback 00:00:00:00:00:00 brd 00:00:00:00:00:00
    inet 127.0.0.1/8 scope host lo
2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc mq state UP group default qlen 1000
    link/ether aa:bb:cc:dd:ee:ff brd ff:ff:ff:ff:ff:ff
    inet 10.0.0.50/24 brd 10.0.0.255 scope global eth0
`
	ifaces, warnings := NetworkInterfaces(raw)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(ifaces) != 2 {
		t.Fatalf("expected 2 interfaces, got %d", len(ifaces))
	}
	eth0 := ifaces[1]
	if eth0.Name != "eth0" || eth0.MACAddress != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("unexpected eth0: %+v", eth0)
	}
	if eth0.IPAddress == nil || *eth0.IPAddress != "10.0.0.50" {
		t.Fatalf("unexpected eth0 ip: %+v", eth0.IPAddress)
	}
	if eth0.Netmask == nil || *eth0.Netmask != "255.255.255.0" {
		t.Fatalf("unexpected eth0 netmask: %+v", eth0.Netmask)
	}
	if eth0.State != "up" {
		t.Fatalf("expected eth0 state up, got %v", eth0.State)
	}
}

func TestNetworkInterfacesIfconfigFormat(t *testing.T) {
	raw := `eth0: flags=4163<UP,BROADCAST,RUNNING,MULTICAST>  mtu 1500
        inet 10.0.0.50  netmask 255.255.255.0  broadcast 10.0.0.255
        ether aa:bb:cc:dd:ee:ff  txqueuelen 1000  (Ethernet)
`
	ifaces, warnings := NetworkInterfaces(raw)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(ifaces) != 1 || ifaces[0].Name != "eth0" {
		t.Fatalf("unexpected parse: %+v", ifaces)
	}
	if ifaces[0].IPAddress == nil || *ifaces[0].IPAddress != "10.0.0.50" {
		t.Fatalf("unexpected ip: %+v", ifaces[0])
	}
}

func TestNetworkInterfacesUnrecognizedFormat(t *testing.T) {
	ifaces, warnings := NetworkInterfaces("total garbage\nthat matches neither format=1")
	if ifaces != nil {
		t.Fatalf("expected nil interfaces, got %v", ifaces)
	}
	if len(warnings) == 0 {
		t.Fatalf("expected a warning for unrecognized format")
	}
}

func TestDiscoveryParseIdempotent(t *testing.T) {
	raw := `Manufacturer: Dell Inc.
Product Name: PowerEdge R640
Serial Number: ABC123
UUID: 00000000-0000-0000-0000-000000000000
`
	first, _ := DMIDecodeSystem(raw)
	second, _ := DMIDecodeSystem(raw)
	if first != second {
		t.Fatalf("expected idempotent parse, got %+v vs %+v", first, second)
	}
}
