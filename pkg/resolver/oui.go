package resolver

// builtinOUI covers common home and office manufacturers so that most
// devices resolve without an online lookup
var builtinOUI = map[string]string{
	"000393": "Apple, Inc.",
	"001B63": "Apple, Inc.",
	"3C22FB": "Apple, Inc.",
	"F01898": "Apple, Inc.",
	"001632": "Samsung Electronics Co.,Ltd",
	"B827EB": "Raspberry Pi Foundation",
	"DCA632": "Raspberry Pi Trading Ltd",
	"E45F01": "Raspberry Pi Trading Ltd",
	"3C5AB4": "Google, Inc.",
	"F4F5D8": "Google, Inc.",
	"546009": "Google, Inc.",
	"18B430": "Nest Labs Inc.",
	"44650D": "Amazon Technologies Inc.",
	"74C246": "Amazon Technologies Inc.",
	"00041F": "Sony Interactive Entertainment Inc.",
	"00D9D1": "Sony Interactive Entertainment Inc.",
	"0050F2": "Microsoft Corporation",
	"7C1E52": "Microsoft Corporation",
	"0009BF": "Nintendo Co.,Ltd.",
	"001F32": "Nintendo Co.,Ltd.",
	"001B21": "Intel Corporate",
	"50C7BF": "TP-LINK TECHNOLOGIES CO.,LTD.",
	"F4F26D": "TP-LINK TECHNOLOGIES CO.,LTD.",
	"00146C": "NETGEAR",
	"204E7F": "NETGEAR",
	"00000C": "Cisco Systems, Inc",
	"24A43C": "Ubiquiti Networks Inc.",
	"0418D6": "Ubiquiti Networks Inc.",
	"00E0FC": "HUAWEI TECHNOLOGIES CO.,LTD",
	"640980": "Xiaomi Communications Co Ltd",
	"286C07": "Xiaomi Communications Co Ltd",
	"B0A737": "Roku, Inc.",
	"DC3A5E": "Roku, Inc.",
	"240AC4": "Espressif Inc.",
	"30AEA4": "Espressif Inc.",
	"001422": "Dell Inc.",
	"F8B156": "Dell Inc.",
	"04D9F5": "ASUSTek COMPUTER INC.",
	"005056": "VMware, Inc.",
	"000C29": "VMware, Inc.",
	"525400": "QEMU virtual NIC",
}
