package lotwire

import (
	"time"

	"github.com/lotwire/lotwire/pkg/vehicle"
)

// SampleInventory returns the built-in demonstration fleet used to
// seed the fallback store when no live backend is configured. IDs are
// stable so repeated runs and tests can refer to them.
func SampleInventory() []vehicle.Vehicle {
	base := time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)
	at := func(days int) time.Time { return base.AddDate(0, 0, days) }

	return []vehicle.Vehicle{
		{ID: "veh-1001", Make: "Toyota", Model: "Camry", Year: 2021, VIN: "4T1G11AK5MU412345", Color: "Silver", Status: vehicle.StatusAvailable, Price: 27500, Mileage: 18200, CreatedAt: at(0), UpdatedAt: at(0)},
		{ID: "veh-1002", Make: "Honda", Model: "Civic", Year: 2020, VIN: "2HGFC2F59LH512346", Color: "Blue", Status: vehicle.StatusAvailable, Price: 21900, Mileage: 31400, CreatedAt: at(1), UpdatedAt: at(3)},
		{ID: "veh-1003", Make: "Ford", Model: "F-150", Year: 2022, VIN: "1FTFW1E55NFA12347", Color: "Black", Status: vehicle.StatusReserved, Price: 46800, Mileage: 9100, Note: "deposit taken", CreatedAt: at(2), UpdatedAt: at(6)},
		{ID: "veh-1004", Make: "Chevrolet", Model: "Equinox", Year: 2019, VIN: "2GNAXKEV4K6112348", Color: "White", Status: vehicle.StatusAvailable, Price: 18400, Mileage: 52300, CreatedAt: at(3), UpdatedAt: at(3)},
		{ID: "veh-1005", Make: "Toyota", Model: "RAV4", Year: 2023, VIN: "2T3P1RFV8PW112349", Color: "Red", Status: vehicle.StatusAvailable, Price: 33200, Mileage: 4800, CreatedAt: at(4), UpdatedAt: at(4)},
		{ID: "veh-1006", Make: "Nissan", Model: "Altima", Year: 2018, VIN: "1N4AL3AP8JC112350", Color: "Gray", Status: vehicle.StatusService, Price: 15700, Mileage: 68900, Note: "transmission inspection", CreatedAt: at(5), UpdatedAt: at(9)},
		{ID: "veh-1007", Make: "Honda", Model: "CR-V", Year: 2021, VIN: "7FARW2H58ME112351", Color: "Green", Status: vehicle.StatusAvailable, Price: 29300, Mileage: 22600, CreatedAt: at(6), UpdatedAt: at(6)},
		{ID: "veh-1008", Make: "Ford", Model: "Escape", Year: 2020, VIN: "1FMCU9G67LUA12352", Color: "Blue", Status: vehicle.StatusSold, Price: 23100, Mileage: 35800, Note: "pickup scheduled", CreatedAt: at(7), UpdatedAt: at(12)},
		{ID: "veh-1009", Make: "Hyundai", Model: "Tucson", Year: 2022, VIN: "5NMJB3AE3NH112353", Color: "Silver", Status: vehicle.StatusAvailable, Price: 28900, Mileage: 11500, CreatedAt: at(8), UpdatedAt: at(8)},
		{ID: "veh-1010", Make: "Kia", Model: "Sorento", Year: 2021, VIN: "5XYRGDLC3MG112354", Color: "Black", Status: vehicle.StatusReserved, Price: 31600, Mileage: 24700, CreatedAt: at(9), UpdatedAt: at(11)},
		{ID: "veh-1011", Make: "Subaru", Model: "Outback", Year: 2019, VIN: "4S4BSANC7K3312355", Color: "Brown", Status: vehicle.StatusAvailable, Price: 22800, Mileage: 47100, CreatedAt: at(10), UpdatedAt: at(10)},
		{ID: "veh-1012", Make: "Mazda", Model: "CX-5", Year: 2023, VIN: "JM3KFBDM2P0112356", Color: "Red", Status: vehicle.StatusAvailable, Price: 30400, Mileage: 6200, CreatedAt: at(11), UpdatedAt: at(11)},
	}
}
