package timezone

var zoneAreaCodes = map[string][]string{
	"America/New_York": {
		"201", "202", "203", "207", "212", "215", "216", "220", "223", "229", "231", "234", "239", "240",
		"248", "267", "269", "272", "276", "289", "301", "302", "304", "305", "313", "315", "321", "326",
		"330", "332", "339", "343", "347", "351", "352", "380", "386", "401", "404", "407", "410", "412",
		"413", "416", "418", "419", "434", "437", "438", "440", "443", "445", "448", "450", "459", "470",
		"475", "478", "484", "502", "508", "513", "514", "516", "517", "518", "519", "540", "548", "551",
		"561", "567", "570", "571", "585", "586", "603", "606", "607", "609", "610", "613", "614", "616",
		"617", "631", "640", "646", "647", "656", "678", "680", "681", "689", "703", "704", "705",
		"706", "716", "717", "718", "724", "727", "728", "732", "734", "740", "743", "754", "757", "762",
		"770", "772", "774", "781", "786", "802", "803", "804", "810", "813", "814", "819", "828", "835",
		"839", "843", "845", "848", "850", "854", "856", "857", "859", "860", "862", "863", "864", "865",
		"873", "878", "904", "905", "908", "910", "912", "914", "917", "919", "929", "934", "937", "941",
		"947", "954", "959", "973", "978", "980", "984", "989",
	},
	"America/Chicago": {
		"205", "210", "214", "217", "218", "224", "225", "251", "254", "256", "262", "270", "274", "281",
		"309", "312", "314", "316", "318", "319", "320", "325", "331", "334", "337", "346", "361", "364",
		"402", "405", "409", "414", "417", "430", "431", "432", "447", "464", "469", "479", "501", "504",
		"507", "512", "515", "531", "534", "539", "563", "573", "580", "601", "608", "612", "615", "618",
		"620", "629", "630", "636", "641", "651", "660", "662", "682", "708", "712", "713", "715", "726",
		"731", "737", "763", "769", "773", "779", "785", "806", "815", "816", "817", "830", "832", "847",
		"870", "872", "901", "903", "913", "915", "918", "920", "931", "936", "938", "940", "945", "952",
		"956", "972", "979", "985",
	},
	"America/Denver": {
		"303", "307", "385", "403", "406", "435", "505", "575", "587", "719", "720", "780", "801", "825",
		"970", "983", "986",
	},
	"America/Phoenix": {
		"480", "520", "602", "623", "928",
	},
	"America/Los_Angeles": {
		"206", "208", "209", "213", "236", "250", "253", "279", "310", "323", "341", "360", "369", "408",
		"415", "424", "425", "442", "458", "503", "509", "510", "530", "541", "559", "562", "564", "604",
		"619", "626", "628", "650", "657", "661", "669", "672", "702", "707", "714", "725", "747", "760",
		"775", "778", "805", "818", "820", "831", "840", "858", "909", "916", "925", "949", "951", "971",
	},
	"America/Anchorage": {"907"},
	"Pacific/Honolulu":  {"808"},
	"America/Puerto_Rico": {
		"787", "939",
	},
	"America/Halifax":   {"506", "782", "902"},
	"America/St_Johns":  {"709"},
	"America/Regina":    {"306", "639"},
	"America/Winnipeg":  {"204"},
}

// areaCodeZones inverts zoneAreaCodes; the first zone in zoneOrder wins.
var areaCodeZones = func() map[string]string {
	m := make(map[string]string, 400)
	for _, zone := range zoneOrder {
		for _, ac := range zoneAreaCodes[zone] {
			if _, dup := m[ac]; !dup {
				m[ac] = zone
			}
		}
	}
	return m
}()

var zoneOrder = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Phoenix",
	"America/Los_Angeles",
	"America/Anchorage",
	"Pacific/Honolulu",
	"America/Puerto_Rico",
	"America/Halifax",
	"America/St_Johns",
	"America/Regina",
	"America/Winnipeg",
}
